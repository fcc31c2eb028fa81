package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/app/logger"
)

var log = logger.NewNamed("app")

var (
	ErrComponentExists   = errors.New("component exists")
	ErrComponentNotFound = errors.New("component not found")
)

// Component is a minimal interface for a common app.Component
type Component interface {
	// Init will be called first
	// When returned error is not nil - app start will be aborted
	Init(a *App) (err error)
	// Name must return unique service name
	Name() (name string)
}

// ComponentRunnable is an interface for components that start background processes
type ComponentRunnable interface {
	Component
	// Run will be called after the init stage
	// Non-nil error will also abort app start
	Run(ctx context.Context) (err error)
	// Close will be called when the app shuts down
	// It is also called when a component returns an error on Init or Run
	Close(ctx context.Context) (err error)
}

// App is the central part of the application
// It contains and manages all components
type App struct {
	components []Component
	mu         sync.RWMutex
}

// Register adds a new component to the app
// All components must be registered before App.Start
func (app *App) Register(s Component) *App {
	app.mu.Lock()
	defer app.mu.Unlock()
	for _, es := range app.components {
		if s.Name() == es.Name() {
			panic(fmt.Errorf("%w: %s", ErrComponentExists, s.Name()))
		}
	}
	app.components = append(app.components, s)
	return app
}

// Component returns the registered component by name, or nil when not found
func (app *App) Component(name string) Component {
	app.mu.RLock()
	defer app.mu.RUnlock()
	for _, s := range app.components {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// MustComponent is like Component but it panics when the component is not found
func (app *App) MustComponent(name string) Component {
	s := app.Component(name)
	if s == nil {
		panic(fmt.Errorf("%w: %s", ErrComponentNotFound, name))
	}
	return s
}

// MustComponent is a generic version of App.MustComponent
func MustComponent[i any](app *App) i {
	app.mu.RLock()
	defer app.mu.RUnlock()
	for _, s := range app.components {
		if v, ok := s.(i); ok {
			return v
		}
	}
	panic(fmt.Errorf("%w: %T", ErrComponentNotFound, *new(i)))
}

// ComponentNames returns a list of registered component names
func (app *App) ComponentNames() (names []string) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	names = make([]string, len(app.components))
	for i, c := range app.components {
		names[i] = c.Name()
	}
	return
}

// Start initializes first all components and then runs them
// When any component returns an error on Init or Run, all started components
// will be closed in reverse order
func (app *App) Start(ctx context.Context) (err error) {
	app.mu.RLock()
	defer app.mu.RUnlock()

	closeServices := func(idx int) {
		for i := idx; i >= 0; i-- {
			if serviceClose, ok := app.components[i].(ComponentRunnable); ok {
				if e := serviceClose.Close(ctx); e != nil {
					log.Error("can't close service", zap.String("name", serviceClose.Name()), zap.Error(e))
				}
			}
		}
	}

	for i, s := range app.components {
		if err = s.Init(app); err != nil {
			closeServices(i)
			return fmt.Errorf("can't init service '%s': %w", s.Name(), err)
		}
	}

	for i, s := range app.components {
		if serviceRun, ok := s.(ComponentRunnable); ok {
			start := time.Now()
			if err = serviceRun.Run(ctx); err != nil {
				closeServices(i)
				return fmt.Errorf("can't run service '%s': %w", s.Name(), err)
			}
			if dur := time.Since(start); dur > time.Second {
				log.Warn("slow service start", zap.String("name", s.Name()), zap.Duration("dur", dur))
			}
		}
	}
	return
}

// Close stops the application
// All components are closed in reverse registration order
func (app *App) Close(ctx context.Context) error {
	log.Info("close components...")
	app.mu.RLock()
	defer app.mu.RUnlock()

	var errs []error
	for i := len(app.components) - 1; i >= 0; i-- {
		if serviceClose, ok := app.components[i].(ComponentRunnable); ok {
			if e := serviceClose.Close(ctx); e != nil {
				errs = append(errs, fmt.Errorf("can't close service '%s': %v", serviceClose.Name(), e))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
