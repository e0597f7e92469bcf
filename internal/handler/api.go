package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medreminder/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db          *gorm.DB
	medications *service.MedicationService
	ledger      *service.AdherenceLedger
	doses       *service.DoseService
	effects     *service.EffectStore
	points      *service.PointsEngine
	queries     *service.QueryFacade
	logger      *zap.Logger
	now         func() time.Time
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, dosePoints int, publisher service.EventPublisher, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger := service.NewAdherenceLedger(gdb)
	effects := service.NewEffectStore(gdb, publisher, logger)
	points := service.NewPointsEngine(gdb, effects)

	return &API{
		db:          gdb,
		medications: service.NewMedicationService(gdb, ledger),
		ledger:      ledger,
		doses:       service.NewDoseService(gdb, dosePoints, logger),
		effects:     effects,
		points:      points,
		queries:     service.NewQueryFacade(ledger, effects, points),
		logger:      logger,
		now:         time.Now,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Ledger 供后台任务复用同一个服药记录账本
func (a *API) Ledger() *service.AdherenceLedger {
	return a.ledger
}

// Effects 供后台任务复用
func (a *API) Effects() *service.EffectStore {
	return a.effects
}

// Points 供后台任务复用
func (a *API) Points() *service.PointsEngine {
	return a.points
}

// Ping 存活检查
func (a *API) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
