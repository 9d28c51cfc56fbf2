package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverUpdate ставится через defer первым в обработчике апдейта.
// Паника одного апдейта не роняет polling, апдейт просто теряется.
func RecoverUpdate(updateID int) {
	r := recover()
	if r == nil {
		return
	}
	log.WithFields(log.Fields{
		"component": "panic_recovery",
		"update_id": updateID,
		"panic":     fmt.Sprintf("%v", r),
		"stack":     string(debug.Stack()),
	}).Error("ПАНИКА при обработке апдейта, апдейт пропущен")
}
