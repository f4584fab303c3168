package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 生成流水线指标
type Metrics struct {
	contentGenerations *prometheus.CounterVec
	imageGenerations   *prometheus.CounterVec
	assetRunDuration   *prometheus.HistogramVec
	imagesInFlight     prometheus.Gauge
}

// NewMetrics 在reg上注册流水线指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		contentGenerations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_content_generations_total",
				Help: "Total number of story content generation attempts by result.",
			},
			[]string{"result"},
		),
		imageGenerations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_image_generations_total",
				Help: "Total number of story image generation attempts by result.",
			},
			[]string{"result"},
		),
		assetRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "story_asset_run_duration_seconds",
				Help:    "Duration of asset pipeline runs by final status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		imagesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "story_images_in_flight",
			Help: "Number of image generation tasks currently running.",
		}),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
