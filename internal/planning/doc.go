// Package planning генерирует планы патчинга и загружает их из файлов.
//
// Generator спрашивает Proposer (внешний сервис планирования). Если его нет,
// он недоступен или вернул невалидный план, используется план по умолчанию,
// и результат помечается как Defaulted с причиной.
package planning
