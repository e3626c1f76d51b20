package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemLedger         = "ledger"
	SystemPayments       = "payments"
	SystemReconciliation = "reconciliation"
)

const (
	MetricCreditsAdded            = "credits_added_total"
	MetricCreditsDeducted         = "credits_deducted_total"
	MetricLedgerErrors            = "errors_total"
	MetricPaymentsCaptured        = "captured_total"
	MetricCreditsNotApplied       = "credits_not_applied_total"
	MetricWebhookEvents           = "webhook_events_total"
	MetricProviderRequestDuration = "provider_request_duration_seconds"
	MetricReconciliationOpen      = "open_items"
	MetricReconciliationRecorded  = "recorded_total"
)

const (
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every metric the service reports. Call it once per process.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(CreateMetric(TypeCounterVec, SystemLedger, MetricCreditsAdded, "type"))
	hasError(CreateMetric(TypeCounterVec, SystemLedger, MetricCreditsDeducted))
	hasError(CreateMetric(TypeCounterVec, SystemLedger, MetricLedgerErrors, "op"))
	hasError(CreateMetric(TypeCounterVec, SystemPayments, MetricPaymentsCaptured, "provider"))
	hasError(CreateMetric(TypeCounterVec, SystemPayments, MetricCreditsNotApplied, "provider"))
	hasError(CreateMetric(TypeCounterVec, SystemPayments, MetricWebhookEvents, "event"))
	hasError(CreateMetric(TypeHistogramVec, SystemPayments, MetricProviderRequestDuration, "provider", "op"))
	hasError(CreateMetric(TypeGaugeVec, SystemReconciliation, MetricReconciliationOpen, "provider"))
	hasError(CreateMetric(TypeCounterVec, SystemReconciliation, MetricReconciliationRecorded, "provider"))

	return err
}

func CreateMetric(metricType, metricSubsystem, metricName string, labels ...string) error {
	switch metricType {
	case TypeCounterVec:
		return createCounterVec(metricSubsystem, metricName, labels)
	case TypeHistogramVec:
		return createHistogramVec(metricSubsystem, metricName, labels)
	case TypeGaugeVec:
		return createGaugeVec(metricSubsystem, metricName, labels)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

// ListenAndServer serves the default registry on its own listener.
func ListenAndServer(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "addr", addr, "url", url)
	if err := s.ListenAndServe(addr); err != nil {
		logger.Error("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func AddCreditsAdded(amount int64, txType string) {
	AddCounterVec(SystemLedger, MetricCreditsAdded, float64(amount), txType)
}

func AddCreditsDeducted(amount int64) {
	AddCounterVec(SystemLedger, MetricCreditsDeducted, float64(amount))
}

func IncLedgerError(op string) {
	IncCounterVec(SystemLedger, MetricLedgerErrors, op)
}

func IncPaymentCaptured(provider string) {
	IncCounterVec(SystemPayments, MetricPaymentsCaptured, provider)
}

func IncCreditsNotApplied(provider string) {
	IncCounterVec(SystemPayments, MetricCreditsNotApplied, provider)
}

func IncWebhookEvent(event string) {
	IncCounterVec(SystemPayments, MetricWebhookEvents, event)
}

func AddProviderRequestDuration(seconds float64, provider, op string) {
	AddHistogramVec(SystemPayments, MetricProviderRequestDuration, seconds, provider, op)
}

func SetReconciliationOpen(count int64, provider string) {
	SetGaugeVec(SystemReconciliation, MetricReconciliationOpen, float64(count), provider)
}

func IncReconciliationRecorded(provider string) {
	IncCounterVec(SystemReconciliation, MetricReconciliationRecorded, provider)
}
