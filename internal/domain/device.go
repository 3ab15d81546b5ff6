package domain

// Device — управляемое устройство клиента из Device Directory.
//
// Ядро хранит только device id; остальные поля нужны для упорядочивания
// (менее критичные устройства идут в canary первыми) и отображения.
type Device struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Hostname string `json:"hostname,omitempty"`

	// Criticality — 0 (наименее критичное) и выше.
	Criticality int `json:"criticality"`
}
