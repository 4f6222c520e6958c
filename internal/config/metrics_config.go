package config

type MetricsConfig interface {
	GetMetricsEnabled() bool
	GetMetricsNamespace() string
	GetMetricsSubsystem() string
}

type Metrics struct{}

var _ MetricsConfig = Metrics{}

func (Metrics) GetMetricsEnabled() bool {
	return GetBoolEnv("ENABLE_PROMETHEUS_METRICS", false)
}

func (Metrics) GetMetricsNamespace() string {
	return GetEnv("PROMETHEUS_METRICS_NAMESPACE", "rag")
}

func (Metrics) GetMetricsSubsystem() string {
	return GetEnv("PROMETHEUS_METRICS_SUBSYSTEM", "auth")
}
