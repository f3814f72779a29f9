package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — счётчики и gauge'и Conveyor.
//
// Nil-receiver безопасен: компоненты, которым метрики не передали
// (CLI, тесты), вызывают методы на nil и получают no-op.
type Metrics struct {
	extractionsTotal   *prometheus.CounterVec
	recordsTotal       prometheus.Counter
	checkpointsTotal   prometheus.Counter
	checkpointFailures prometheus.Counter
	activeTasks        prometheus.Gauge
}

// NewMetrics регистрирует метрики в указанном registry.
// Если registerer nil, используется prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		extractionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "extractions_total",
			Help:      "Завершённые извлечения по итоговому статусу.",
		}, []string{"status"}),
		recordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "records_extracted_total",
			Help:      "Суммарное количество извлечённых записей.",
		}),
		checkpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "checkpoints_total",
			Help:      "Успешно сохранённые чекпоинты состояния.",
		}),
		checkpointFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conveyor",
			Name:      "checkpoint_failures_total",
			Help:      "Неудачные попытки сохранить чекпоинт.",
		}),
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "conveyor",
			Name:      "active_tasks",
			Help:      "Задачи, выполняющиеся в данный момент.",
		}),
	}
}

// ObserveExtraction учитывает завершённое извлечение.
func (m *Metrics) ObserveExtraction(status string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(status).Inc()
}

// AddRecords учитывает извлечённые записи.
func (m *Metrics) AddRecords(n int64) {
	if m == nil {
		return
	}
	m.recordsTotal.Add(float64(n))
}

// ObserveCheckpoint учитывает попытку чекпоинта.
func (m *Metrics) ObserveCheckpoint(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.checkpointFailures.Inc()
		return
	}
	m.checkpointsTotal.Inc()
}

// TaskStarted/TaskFinished двигают gauge активных задач.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.activeTasks.Inc()
}

func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.activeTasks.Dec()
}
