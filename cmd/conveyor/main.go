// Conveyor CLI — инструмент командной строки для запуска pipeline'ов
// и инспекции их состояния.
//
// Использование:
//
//	conveyor [--config PATH] [--json] <command> [flags]
//
// Команды:
//
//	run       Запуск pipeline извлечения
//	pipeline  Инспекция и обслуживание снапшотов
//	task      Операторские действия над задачами
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	app := &cli.App{
		Logger: telemetry.SetupLogger(),
	}

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor — idempotent data extraction pipelines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&app.JSONOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(
		cli.NewRunCmd(app),
		cli.NewPipelineCmd(app),
		cli.NewTaskCmd(app),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
