// Package orchestrator — Run Controller и сервис, который продвигает runs.
//
// Controller — машина состояний run:
//
//	PENDING → RUNNING(i) → HEALTH_CHECK(i) → RUNNING(i+1) … → COMPLETED
//	                                       ↘ ROLLING_BACK(i) → ROLLED_BACK
//	любой нефинальный (кроме ROLLING_BACK) → FAILED
//
// Каждый переход записывается с проверкой версии, поэтому после падения
// процесса run продолжается с последней записанной точки, а два
// контроллера не могут записать один и тот же переход дважды.
//
// Orchestrator получает события из RabbitMQ и периодически обходит
// нефинальные runs, вызывая Controller.Advance.
package orchestrator
