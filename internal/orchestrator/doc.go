// Package orchestrator управляет идемпотентным выполнением pipeline'ов
// извлечения.
//
// Оркестратор держит в памяти состояние одного pipeline (метаданные
// запуска плюс задачи по ключам) и синхронизирует его со снапшотом
// в statestore. Перед диспетчеризацией каждой задачи решение
// "извлекать или нет" принимает идемпотентный движок: он сверяет
// статус задачи, окно извлечения и целостность артефакта, поэтому
// повторный запуск с тем же run_id не переделывает уже сделанную
// работу, а после сбоя процесс продолжается с места остановки.
//
// Состояние сохраняется синхронно после каждого завершения задачи и
// дополнительно по таймеру через Checkpointer.
package orchestrator
