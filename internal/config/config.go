// Package config читает настройки сервисов из переменных окружения.
//
// Некорректное значение не роняет сервис: используется default,
// а Load возвращает список проблем для лога.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env — источник переменных окружения.
type Env struct {
	lookup   func(string) (string, bool)
	problems []string
}

// FromOS читает переменные процесса.
func FromOS() *Env {
	return &Env{lookup: os.LookupEnv}
}

// FromMap — для тестов.
func FromMap(m map[string]string) *Env {
	return &Env{lookup: func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}}
}

// Problems возвращает некорректные значения, встреченные при чтении.
func (e *Env) Problems() []string {
	return e.problems
}

func (e *Env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *Env) invalid(key, value string, err error) {
	e.problems = append(e.problems, fmt.Sprintf("%s=%q: %v", key, value, err))
}

// String возвращает значение или def.
func (e *Env) String(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

// Int возвращает целое значение или def.
func (e *Env) Int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return n
}

// Duration принимает "30s", "10m" или число секунд.
func (e *Env) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return d
}

// Bool возвращает булево значение или def.
func (e *Env) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, err)
		return def
	}
	return b
}
