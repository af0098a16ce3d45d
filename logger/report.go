package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type resourceStat struct {
	fetches int64
	records int64
}

var (
	fetchErrors   int64
	persistErrors int64
	warnsTotal    int64
	resources     sync.Map // map[string]*resourceStat
)

func recordWarn(component string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	if strings.Contains(component, "fetcher") {
		atomic.AddInt64(&fetchErrors, 1)
	} else if strings.Contains(component, "store") {
		atomic.AddInt64(&persistErrors, 1)
	}
}

// RecordFetch tallies one successful fetch for a resource type and the
// number of records it produced.
func RecordFetch(resource string, records int) {
	v, _ := resources.LoadOrStore(resource, &resourceStat{})
	rs := v.(*resourceStat)
	atomic.AddInt64(&rs.fetches, 1)
	atomic.AddInt64(&rs.records, int64(records))
}

// StartReport begins periodic logging of system and ingestion statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	resourceData := map[string]map[string]int64{}
	resources.Range(func(k, v any) bool {
		name := k.(string)
		rs := v.(*resourceStat)
		resourceData[name] = map[string]int64{
			"fetches": atomic.LoadInt64(&rs.fetches),
			"records": atomic.LoadInt64(&rs.records),
		}
		return true
	})

	fields := Fields{
		"fetch_errors":   atomic.LoadInt64(&fetchErrors),
		"persist_errors": atomic.LoadInt64(&persistErrors),
		"warns":          atomic.LoadInt64(&warnsTotal),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"resources":      resourceData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		{MetricName: aws.String("FetchErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&fetchErrors)))},
		{MetricName: aws.String("PersistErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&persistErrors)))},
	}

	for name, stats := range resourceData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ResourceFetches"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Resource"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["fetches"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ResourceRecords"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Resource"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["records"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
