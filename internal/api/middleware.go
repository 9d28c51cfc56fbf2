package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
)

// Заголовки админки
const (
	RequestIDHeader = "X-Request-ID"
	AdminKeyHeader  = "X-Admin-Key"
	ActorIDHeader   = "X-Actor-ID"
)

const (
	ctxRequestID = "request_id"
	ctxActorID   = "actor_id"
)

// RequestLogger пишет начало и конец каждого запроса с request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set(ctxRequestID, requestID)

		start := time.Now()
		fields := log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
		}
		log.WithFields(fields).Debug("HTTP запрос")

		c.Next()

		fields["status"] = c.Writer.Status()
		fields["took"] = time.Since(start).String()
		entry := log.WithFields(fields)
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP запрос завершён с ошибкой")
			return
		}
		entry.Info("HTTP запрос обработан")
	}
}

// AdminAuth пропускает только запросы с верным X-Admin-Key.
func AdminAuth(keys KeyVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keys == nil {
			writeError(c, fmt.Errorf("%w: ключ админки не настроен", common.ErrPermissionDenied))
			c.Abort()
			return
		}
		if err := keys.Verify(c.ClientIP(), c.GetHeader(AdminKeyHeader)); err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireActor требует X-Actor-ID: от чьего имени принимается решение.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		if actorID == "" {
			writeError(c, fmt.Errorf("%w: нужен заголовок %s", common.ErrInvalidRequest, ActorIDHeader))
			c.Abort()
			return
		}
		c.Set(ctxActorID, actorID)
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(ctxActorID)
}

// statusOf переводит код ошибки в HTTP-статус.
func statusOf(code common.Code) int {
	switch code {
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodeIllegalTransition:
		return http.StatusConflict
	case common.CodePermissionDenied:
		return http.StatusForbidden
	case common.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case common.CodeInvalidAmount, common.CodeInvalidRequest:
		return http.StatusBadRequest
	case common.CodeConfiguration:
		return http.StatusConflict
	case common.CodeLockTimeout, common.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отдаёт {code, message}.
func writeError(c *gin.Context, err error) {
	code := common.CodeOf(err)
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"request_id": c.GetString(ctxRequestID),
			"code":       code,
		}).Error("Ошибка обработки запроса")
	}
	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}

// badRequest: ошибка разбора тела запроса.
func badRequest(c *gin.Context, err error) {
	writeError(c, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
}
