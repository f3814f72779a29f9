package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/statestore"
)

// App — общий контекст команд CLI: пути до конфигурации и режим
// вывода, прокинутые из persistent-флагов.
type App struct {
	ConfigPath string
	JSONOutput bool
	Logger     *slog.Logger
}

// Output создаёт Output в выбранном режиме.
func (a *App) Output() *Output {
	return NewOutput(a.JSONOutput)
}

// Config загружает конфигурацию.
func (a *App) Config() (config.Config, error) {
	return config.Load(a.ConfigPath)
}

// OpenStore открывает statestore по конфигурации.
// Возвращает функцию закрытия ресурсов backend'а.
func (a *App) OpenStore(ctx context.Context, cfg config.Config) (statestore.Store, func(), error) {
	switch cfg.StateBackend {
	case config.BackendFile:
		store, err := statestore.NewFileStore(cfg.StateDir, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendPostgres:
		pool, err := statestore.NewPool(ctx, cfg.StateDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect state db: %w", err)
		}
		store := statestore.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown state_backend %q", cfg.StateBackend)
	}
}
