package logger

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Log доступен до Init, чтобы тесты и утилиты не падали на nil.
var Log = logrus.New()

// Init инициализирует структурированный логгер.
func Init(level string) {
	Log = logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// SetTextFormatter устанавливает текстовый формат логов (для development).
func SetTextFormatter() {
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// ForPayment запись с полями заявки и платежа, общими для денежных операций.
func ForPayment(requestID, paymentID uuid.UUID) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"request_id": requestID,
		"payment_id": paymentID,
	})
}
