package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/danutirta/meterflow/internal/engine"
	"github.com/danutirta/meterflow/internal/storage"
)

// Batch recomputes summaries for a date range across all active meters.
//
// Meters are independent and run concurrently up to Workers. Days of the
// same meter run in ascending order on one worker, because office
// electricity validation and fuel refill detection need the previous day's
// summary committed first.
type Batch struct {
	Store   storage.Storage
	Engine  *engine.Engine
	Workers int
}

// meterTask is all pending days of one meter, ascending.
type meterTask struct {
	meterID uint
	code    string
	days    []time.Time
}

// RecomputeRange recomputes every (meter, day) with a reading session in
// [from, to]. Failed units are logged and counted; the range keeps going.
func (b *Batch) RecomputeRange(ctx context.Context, from, to time.Time) error {
	from, to = storage.Day(from), storage.Day(to)
	meters, err := b.Store.ListMeters(ctx)
	if err != nil {
		return fmt.Errorf("list meters: %w", err)
	}

	var tasks []meterTask
	for _, m := range meters {
		if m.Status != storage.MeterActive || m.CalculationTemplateID != nil {
			continue
		}
		days, err := b.Store.ListSessionDays(ctx, m.ID, from, to)
		if err != nil {
			return fmt.Errorf("list session days for meter %d: %w", m.ID, err)
		}
		if len(days) > 0 {
			tasks = append(tasks, meterTask{meterID: m.ID, code: m.Code, days: days})
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	workers := b.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskCh := make(chan meterTask)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				n := b.runMeter(ctx, task)
				if n > 0 {
					mu.Lock()
					failed += n
					mu.Unlock()
				}
			}
		}()
	}

	for _, task := range tasks {
		select {
		case taskCh <- task:
		case <-ctx.Done():
			close(taskCh)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(taskCh)
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("recompute range %s..%s: %d unit(s) failed",
			from.Format("2006-01-02"), to.Format("2006-01-02"), failed)
	}
	return nil
}

// runMeter recomputes one meter's days in order and returns the failure
// count. A failed day does not stop later days: counter meters diff against
// the latest committed session, so the remaining days still compute.
func (b *Batch) runMeter(ctx context.Context, task meterTask) int {
	var failed int
	for _, day := range task.days {
		if ctx.Err() != nil {
			return failed + len(task.days)
		}
		if _, err := b.Engine.RecomputeMeterDay(ctx, task.meterID, day); err != nil {
			log.Printf("batch: meter %s day %s: %v", task.code, day.Format("2006-01-02"), err)
			failed++
		}
	}
	return failed
}
