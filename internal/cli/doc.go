// Package cli реализует инструмент командной строки PatchPilot.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с PatchPilot API.
// Работает через HTTP; из внутренних пакетов использует только planning
// для локальной проверки YAML-файлов планов.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для PatchPilot API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{Status: "RUNNING"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: patchpilot run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - plan: list, create -f, show, generate
//   - run: list, start, show, outcomes, advance, cancel
//
// Каждая группа создаётся через фабричную функцию (NewPlanCmd, NewRunCmd),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
