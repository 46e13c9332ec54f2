package models

import "time"

const (
	KindQueueEntry  = "queue entry"
	KindAppointment = "appointment"
)

const (
	// DefaultFlushInterval период автосохранения журнала изменений
	DefaultFlushInterval = 30 * time.Second

	// DefaultPendingTTL время хранения неотправленного журнала в Redis
	DefaultPendingTTL = 7 * 24 * time.Hour

	// DefaultLoadCacheTTL время жизни последней успешной загрузки очереди
	DefaultLoadCacheTTL = 24 * time.Hour

	// DefaultAlertAfterFailures число неудачных синхронизаций подряд до оповещения
	DefaultAlertAfterFailures = 5

	// DefaultRequestTimeout таймаут HTTP-запросов к бэкенду
	DefaultRequestTimeout = 10 * time.Second

	// MaxDurationMinutes верхняя граница длительности приёма (сутки)
	MaxDurationMinutes = 24 * 60
)

// ParseModeMarkdown режим разметки сообщений Telegram
const ParseModeMarkdown = "Markdown"
