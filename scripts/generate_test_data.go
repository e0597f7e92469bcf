package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/medreminder/internal/config"
	"github.com/medreminder/internal/db"
	"github.com/medreminder/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const demoPatientID = 1

type demoMedication struct {
	name      string
	dosage    string
	route     string
	frequency string
	times     []service.ClockTime
}

var demoMedications = []demoMedication{
	{
		name:      "二甲双胍",
		dosage:    "500mg",
		route:     "口服",
		frequency: service.FrequencyTwiceDaily,
		times:     []service.ClockTime{{Hour: 8, Period: "AM"}, {Hour: 8, Period: "PM"}},
	},
	{
		name:      "阿托伐他汀",
		dosage:    "20mg",
		route:     "口服",
		frequency: service.FrequencyOnceDaily,
		times:     []service.ClockTime{{Hour: 9, Minute: 30, Period: "PM"}},
	},
	{
		name:      "维生素D",
		dosage:    "1000IU",
		route:     "口服",
		frequency: service.FrequencyThreeDaily,
		times:     []service.ClockTime{{Hour: 7, Period: "AM"}, {Hour: 12, Period: "PM"}, {Hour: 6, Period: "PM"}},
	},
}

type seedSummary struct {
	Medications int
	Reminders   int
	Taken       int
	Skipped     bool
}

// 测试数据生成器
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	summary, err := seedDemoData(db.DB, cfg.DosePoints, time.Now())
	if err != nil {
		log.Fatal("测试数据生成失败:", err)
	}
	if summary.Skipped {
		fmt.Println("药物已存在，跳过创建")
		return
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("患者: %d\n", demoPatientID)
	fmt.Printf("药物: %d 种，提醒: %d 条，今日已服用: %d 次\n", summary.Medications, summary.Reminders, summary.Taken)
}

// seedDemoData 为演示患者创建药物与提醒，并将今天已过时间点的提醒标记为已服用
func seedDemoData(gdb *gorm.DB, dosePoints int, now time.Time) (*seedSummary, error) {
	var count int64
	if err := gdb.Model(&db.Medication{}).Where("patient_id = ?", demoPatientID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count medications: %w", err)
	}
	if count > 0 {
		return &seedSummary{Skipped: true}, nil
	}

	ledger := service.NewAdherenceLedger(gdb)
	medications := service.NewMedicationService(gdb, ledger)
	doses := service.NewDoseService(gdb, dosePoints, zap.NewNop())

	today := now.Format("2006-01-02")
	summary := &seedSummary{}

	for _, item := range demoMedications {
		medication, err := medications.Create(service.MedicationInput{
			PatientID: demoPatientID,
			Name:      item.name,
			Dosage:    item.dosage,
			Route:     item.route,
			Frequency: item.frequency,
			StartDate: today,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", item.name, err)
		}
		summary.Medications++

		batch, err := medications.CreateReminders(service.ReminderInput{
			MedicationID: medication.ID,
			Times:        item.times,
			StartDate:    today,
		}, now)
		if err != nil && !errors.Is(err, service.ErrPartialSchedule) {
			return nil, fmt.Errorf("create reminders for %s: %w", item.name, err)
		}
		summary.Reminders += len(batch.Reminders)

		for _, reminder := range batch.Reminders {
			if reminder.ScheduleTime > now.Format("15:04") {
				continue
			}
			result, err := doses.Take(reminder.ID, demoPatientID, now)
			if err != nil {
				return nil, fmt.Errorf("take %s at %s: %w", item.name, reminder.ScheduleTime, err)
			}
			if !result.AlreadyTaken {
				summary.Taken++
			}
		}
	}

	return summary, nil
}
