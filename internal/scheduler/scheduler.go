// Package scheduler corre las tareas periódicas de limpieza sobre cron.
// Cada tarea es una función pura de barrido que retorna cuántas filas tocó;
// el scheduler solo agenda, loguea y expone ejecución manual para tests y
// operación.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dropDatabas3/souche/internal/observability/logger"
)

// Schedules de las tareas de limpieza.
const (
	// ScheduleExpiredTokens barre tokens vencidos cada hora en punto.
	ScheduleExpiredTokens = "0 * * * *"
	// ScheduleOldRevoked barre tokens revocados viejos a las 02:00.
	ScheduleOldRevoked = "0 2 * * *"
	// ScheduleIdleSessions apaga sesiones inactivas cada 15 minutos.
	ScheduleIdleSessions = "*/15 * * * *"
)

// SweepFunc es una tarea de barrido: retorna filas afectadas.
type SweepFunc func(ctx context.Context) (int, error)

type task struct {
	name  string
	spec  string
	sweep SweepFunc
}

// Scheduler agenda tareas nombradas sobre un cron.Cron.
type Scheduler struct {
	cron    *cron.Cron
	tasks   []task
	timeout time.Duration
}

func New() *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		timeout: 5 * time.Minute,
	}
}

// Register agenda una tarea con su spec cron. Falla solo con un spec
// inválido, que es un bug de programación, no una condición de runtime.
func (s *Scheduler) Register(name, spec string, sweep SweepFunc) error {
	t := task{name: name, spec: spec, sweep: sweep}
	if _, err := s.cron.AddFunc(spec, func() { s.run(t) }); err != nil {
		return fmt.Errorf("register task %s: %w", name, err)
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// TaskNames retorna los nombres registrados, en orden de registro.
func (s *Scheduler) TaskNames() []string {
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}

// RunTask ejecuta una tarea por nombre, fuera de agenda. Retorna las filas
// afectadas.
func (s *Scheduler) RunTask(ctx context.Context, name string) (int, error) {
	for _, t := range s.tasks {
		if t.name == name {
			return t.sweep(ctx)
		}
	}
	return 0, fmt.Errorf("unknown task %q", name)
}

// Start arranca el cron en background.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.L().Info("scheduler iniciado", logger.Component("scheduler"),
		logger.Count(len(s.tasks)))
}

// Stop frena el cron y espera a que terminen las tareas en vuelo.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		logger.L().Warn("scheduler detenido con tareas en vuelo", logger.Component("scheduler"))
	}
}

func (s *Scheduler) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := logger.L().With(logger.Component("scheduler"), logger.Task(t.name))
	start := time.Now()

	n, err := t.sweep(ctx)
	if err != nil {
		log.Error("tarea de limpieza falló", logger.Err(err))
		return
	}
	log.Info("tarea de limpieza completada",
		logger.Count(n), logger.Duration(time.Since(start)))
}
