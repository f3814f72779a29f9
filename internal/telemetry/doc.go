// Package telemetry — логирование и метрики Conveyor.
//
// Логирование построено на log/slog с JSON-выводом по умолчанию,
// метрики — на Prometheus. Оба настраиваются один раз в main и
// передаются компонентам явно.
package telemetry
