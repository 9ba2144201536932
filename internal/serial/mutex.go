// Package serial реализует примитив эксклюзивного исполнения: очередь с одним
// воркером, через которую проходят все записи в общий файловый ресурс.
//
// Гарантии:
//   - в каждый момент исполняется не более одной единицы работы;
//   - единицы исполняются в порядке передачи воркеру (FIFO);
//   - ошибка или паника одной единицы не блокирует следующие.
//
// Реентерабельности нет: вызов Run изнутри единицы работы того же Mutex
// приведёт к взаимоблокировке.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed возвращается, если очередь уже остановлена.
var ErrClosed = errors.New("serial: mutex closed")

type job struct {
	fn   func() error
	done chan error
}

type Mutex struct {
	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New запускает воркер. Остановка — через Close.
func New() *Mutex {
	m := &Mutex{
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

// Run передаёт fn воркеру и ждёт результата.
// ctx учитывается только до передачи: принятая единица всегда доисполняется,
// чтобы запись не оборвалась на середине.
func (m *Mutex) Run(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case m.jobs <- j:
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-j.done
}

// Close останавливает воркер. Уже принятая единица успевает завершиться.
func (m *Mutex) Close() {
	m.once.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()
}

func (m *Mutex) worker() {
	defer m.wg.Done()
	for {
		select {
		case j := <-m.jobs:
			j.done <- execute(j.fn)
		case <-m.quit:
			return
		}
	}
}

func execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("serial: unit panicked: %v", r)
		}
	}()
	return fn()
}
