// Package cli — команды инструмента conveyor.
//
// CLI работает напрямую с локальным statestore и источником данных,
// без промежуточного сервера: запуск pipeline, инспекция снапшотов и
// операторские сбросы — всё через одни и те же пакеты, что и daemon.
package cli
