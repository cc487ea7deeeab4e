// Package wizard — резюмируемый пошаговый сценарий (анкета, составление
// рассылки): упорядоченные шаги с валидацией, отмена, таймаут простоя.
package wizard

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

var ErrNoSession = errors.New("no active wizard session")

// Step — один шаг сценария. Choices непустой — шаг выбора (inline-кнопки),
// иначе свободный текст не короче MinLen. AcceptContact разрешает ответ
// переданным контактом вместо текста.
type Step struct {
	Field         string
	Prompt        string
	Invalid       string
	Choices       []string
	MinLen        int
	AcceptContact bool
}

type Flow struct {
	Kind  string
	Steps []Step
}

// Session — состояние одной анкеты. Ровно одна активная сессия на пользователя,
// процесс-локальная (потеря при рестарте допустима, сессии короткоживущие).
type Session struct {
	UserID    int64             `json:"user_id"`
	FlowKind  string            `json:"flow_kind"`
	StepIndex int               `json:"step_index"`
	Fields    map[string]string `json:"fields"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Input — ответ пользователя на текущий шаг. Contact=true означает, что Text
// пришёл из переданного контакта, Choice=true — из callback-кнопки.
type Input struct {
	Text    string
	Contact bool
	Choice  bool
}

// Result — исход Submit. Invalid непустой — шаг не пройден, индекс не
// сдвинулся, пользователю показывают корректирующее сообщение.
type Result struct {
	Advanced  bool
	Completed bool
	Next      *Step
	Session   *Session
	Invalid   string
}

type Engine struct {
	flows   map[string]Flow
	store   SessionStore
	timeout time.Duration
}

func NewEngine(store SessionStore, timeout time.Duration, flows ...Flow) *Engine {
	m := make(map[string]Flow, len(flows))
	for _, f := range flows {
		m[f.Kind] = f
	}
	return &Engine{flows: m, store: store, timeout: timeout}
}

// Start создаёт сессию на нулевом шаге. Уже идущая сессия пользователя
// перезаписывается: активная сессия всегда одна.
func (e *Engine) Start(ctx context.Context, userID int64, kind string) (*Step, error) {
	flow, ok := e.flows[kind]
	if !ok || len(flow.Steps) == 0 {
		return nil, errors.New("wizard: unknown flow " + kind)
	}
	now := time.Now()
	s := &Session{
		UserID:    userID,
		FlowKind:  kind,
		Fields:    make(map[string]string),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Put(ctx, s); err != nil {
		return nil, err
	}
	step := flow.Steps[0]
	return &step, nil
}

// Active возвращает живую сессию пользователя либо nil. Просроченная сессия
// уничтожается на месте: следующий ввод начнёт сценарий заново.
func (e *Engine) Active(ctx context.Context, userID int64) (*Session, error) {
	s, err := e.store.Get(ctx, userID)
	if err != nil || s == nil {
		return nil, err
	}
	if e.timeout > 0 && time.Since(s.UpdatedAt) > e.timeout {
		_ = e.store.Delete(ctx, userID)
		return nil, nil
	}
	return s, nil
}

// Submit валидирует ввод по правилу текущего шага. Успех сохраняет поле и
// либо двигает индекс, либо завершает сценарий (сессия уничтожается, снапшот
// отдаётся вызывающему). Неуспех не меняет состояние сессии.
func (e *Engine) Submit(ctx context.Context, userID int64, in Input) (Result, error) {
	s, err := e.Active(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return Result{}, ErrNoSession
	}
	// Сессия из внешнего хранилища могла пережить состав сценариев (redis
	// переживает деплой): неизвестный сценарий гасим как отсутствие сессии.
	flow, ok := e.flows[s.FlowKind]
	if !ok || s.StepIndex >= len(flow.Steps) {
		_ = e.store.Delete(ctx, userID)
		return Result{}, ErrNoSession
	}
	step := flow.Steps[s.StepIndex]

	value, invalid := validate(step, in)
	if invalid != "" {
		return Result{Invalid: invalid}, nil
	}

	s.Fields[step.Field] = value
	s.UpdatedAt = time.Now()

	if s.StepIndex == len(flow.Steps)-1 {
		snapshot := *s
		if err := e.store.Delete(ctx, userID); err != nil {
			return Result{}, err
		}
		return Result{Advanced: true, Completed: true, Session: &snapshot}, nil
	}

	s.StepIndex++
	if err := e.store.Put(ctx, s); err != nil {
		return Result{}, err
	}
	next := flow.Steps[s.StepIndex]
	return Result{Advanced: true, Next: &next}, nil
}

// Cancel безусловно уничтожает сессию. Возвращает false, если сессии не было.
func (e *Engine) Cancel(ctx context.Context, userID int64) (bool, error) {
	s, err := e.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, nil
	}
	return true, e.store.Delete(ctx, userID)
}

// StepAt возвращает шаг сессии (для повторного показа подсказки).
func (e *Engine) StepAt(s *Session) *Step {
	flow, ok := e.flows[s.FlowKind]
	if !ok || s.StepIndex >= len(flow.Steps) {
		return nil
	}
	step := flow.Steps[s.StepIndex]
	return &step
}

// SweepIdle уничтожает просроченные сессии и возвращает их владельцев.
// Вызывается периодически в один поток (single-flight).
func (e *Engine) SweepIdle(ctx context.Context) ([]int64, error) {
	stale, err := e.store.Stale(ctx, time.Now().Add(-e.timeout))
	if err != nil {
		return nil, err
	}
	var owners []int64
	for _, s := range stale {
		if err := e.store.Delete(ctx, s.UserID); err != nil {
			continue
		}
		owners = append(owners, s.UserID)
	}
	return owners, nil
}

func validate(step Step, in Input) (value, invalid string) {
	text := strings.TrimSpace(in.Text)

	if len(step.Choices) > 0 {
		for _, c := range step.Choices {
			if text == c {
				return c, ""
			}
		}
		return "", step.Invalid
	}

	if step.AcceptContact {
		if in.Contact && text != "" {
			return text, ""
		}
		if looksLikePhone(text) {
			return text, ""
		}
		return "", step.Invalid
	}

	minLen := step.MinLen
	if minLen <= 0 {
		minLen = 1
	}
	if len([]rune(text)) < minLen {
		return "", step.Invalid
	}
	return text, ""
}

// looksLikePhone — минимум 7 цифр, допускаются +, пробелы, скобки и дефисы.
func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}
