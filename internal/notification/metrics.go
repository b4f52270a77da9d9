package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DirectoryStats は登録状況の件数を返す。
type DirectoryStats interface {
	Len() (users, addresses int)
}

// NewRegistry はランタイムの標準メトリクスと登録状況のゲージを登録したレジストリを生成する。
func NewRegistry(stats DirectoryStats) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pushfeed_registered_users",
			Help: "Number of users with at least one registered push address",
		}, func() float64 {
			users, _ := stats.Len()
			return float64(users)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pushfeed_registered_addresses",
			Help: "Number of registered push addresses",
		}, func() float64 {
			_, addresses := stats.Len()
			return float64(addresses)
		}),
	)
	return reg
}
