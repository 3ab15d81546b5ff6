package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict — запись изменена другим писателем после чтения
	// (compare-and-set по version не прошёл).
	ErrVersionConflict = errors.New("version conflict")
)
