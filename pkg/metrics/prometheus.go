package metrics

// Gin request metrics, adapted from github.com/zsais/go-gin-prometheus.

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricPath = "/metrics"

var httpLabels = []string{"code", "method", "url"}

type Logger interface {
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// RequestCounterURLLabelMappingFn returns the "url" label of a request. Use
// the route template (c.FullPath) to keep cardinality bounded.
type RequestCounterURLLabelMappingFn func(c *gin.Context) string

// Prometheus records request count, latency and sizes for a gin engine.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	gatherer      prometheus.Gatherer
	metricsPath   string
	listenAddress string
	urlLabel      RequestCounterURLLabelMappingFn
	logger        Logger
}

type NewPrometheusOptions struct {
	Subsystem   string
	MetricsPath string
	// Registerer and Gatherer default to the prometheus globals.
	Registerer              prometheus.Registerer
	Gatherer                prometheus.Gatherer
	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn
	Logger                  Logger
}

func NewPrometheus(o NewPrometheusOptions) *Prometheus {
	if o.Subsystem == "" {
		o.Subsystem = subsystem
	}
	if o.MetricsPath == "" {
		o.MetricsPath = defaultMetricPath
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.DefaultRegisterer
	}
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}
	if o.ReqCntURLLabelMappingFn == nil {
		o.ReqCntURLLabelMappingFn = func(c *gin.Context) string { return c.Request.URL.Path }
	}

	p := &Prometheus{
		gatherer:    o.Gatherer,
		metricsPath: o.MetricsPath,
		urlLabel:    o.ReqCntURLLabelMappingFn,
		logger:      o.Logger,
	}
	p.reqCnt = registerLogged(o.Logger, o.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: o.Subsystem,
		Name:      "req_total",
		Help:      "HTTP requests processed, partitioned by status code, method and route.",
	}, httpLabels))
	p.reqDur = registerLogged(o.Logger, o.Registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: o.Subsystem,
		Name:      "req_dur_ms",
		Help:      "HTTP request latencies in milliseconds.",
		Buckets:   HistogramBuckets,
	}, httpLabels))
	p.reqSz = registerLogged(o.Logger, o.Registerer, prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem: o.Subsystem,
		Name:      "req_sz_bytes",
		Help:      "HTTP request sizes in bytes.",
	}, httpLabels))
	p.resSz = registerLogged(o.Logger, o.Registerer, prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem: o.Subsystem,
		Name:      "resp_sz_bytes",
		Help:      "HTTP response sizes in bytes.",
	}, httpLabels))
	return p
}

func registerLogged[T prometheus.Collector](log Logger, reg prometheus.Registerer, c T) T {
	got, err := register(reg, c)
	if err != nil && log != nil {
		log.Errorf("http metric could not be registered: %v", err)
	}
	return got
}

// SetListenAddress serves the metrics endpoint on its own address instead
// of the application engine, which keeps scrapes out of the access log.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
}

// Use installs the middleware on e and mounts the metrics endpoint.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.metricsPath, metricsHandler(p.gatherer))
		return
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(p.metricsPath, metricsHandler(p.gatherer))
	go func() {
		if err := r.Run(p.listenAddress); err != nil && p.logger != nil {
			p.logger.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		reqSz := computeApproximateRequestSize(c.Request)

		c.Next()

		labels := []string{strconv.Itoa(c.Writer.Status()), c.Request.Method, p.urlLabel(c)}
		p.reqDur.WithLabelValues(labels...).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(labels...).Inc()
		p.reqSz.WithLabelValues(labels...).Observe(float64(reqSz))
		p.resSz.WithLabelValues(labels...).Observe(float64(c.Writer.Size()))
	}
}
