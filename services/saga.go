package services

import (
	"context"
	"fmt"
	"log"
)

// SagaStep - шаг SAGA: действие и его компенсация
type SagaStep struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga выполняет шаги последовательно; при ошибке компенсирует
// выполненные шаги в обратном порядке.
// Используется для оптимистичных действий: шаг 1 - локальная мутация,
// следующие шаги - запись оверлея и запрос к API.
type Saga struct {
	ID    string
	Steps []*SagaStep
}

func NewSaga(id string) *Saga {
	return &Saga{ID: id}
}

// AddStep добавляет шаг в SAGA
func (saga *Saga) AddStep(name string, execute func(ctx context.Context) error, compensate func(ctx context.Context) error) *Saga {
	saga.Steps = append(saga.Steps, &SagaStep{
		Name:       name,
		Execute:    execute,
		Compensate: compensate,
	})
	return saga
}

// Execute выполняет SAGA. Возвращается ошибка упавшего шага.
func (saga *Saga) Execute(ctx context.Context) error {
	executed := make([]*SagaStep, 0, len(saga.Steps))

	for _, step := range saga.Steps {
		if err := step.Execute(ctx); err != nil {
			log.Printf("SAGA %s: Step %s failed: %v", saga.ID, step.Name, err)

			for i := len(executed) - 1; i >= 0; i-- {
				done := executed[i]
				if done.Compensate == nil {
					continue
				}
				// компенсация не должна зависеть от отмены исходного контекста
				if compErr := done.Compensate(context.WithoutCancel(ctx)); compErr != nil {
					log.Printf("ERROR: SAGA %s: Compensation for %s failed: %v", saga.ID, done.Name, compErr)
				}
			}

			return fmt.Errorf("saga %s failed at step %s: %w", saga.ID, step.Name, err)
		}
		executed = append(executed, step)
	}
	return nil
}
