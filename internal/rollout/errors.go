package rollout

import "errors"

var (
	// ErrDispatch — команду на устройство не удалось отправить или она отклонена.
	ErrDispatch = errors.New("dispatch failed")

	// ErrProbe — не удалось получить состояние устройства.
	ErrProbe = errors.New("probe failed")
)
