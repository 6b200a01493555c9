package database

import (
	"fmt"
	"log"
	"os"

	"github.com/learnhub/payments-api/model"
	"github.com/learnhub/payments-api/utils/auth"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

// SeedAll runs all seed functions
func (s *Seeder) SeedAll() error {
	log.Println("Starting database seeding...")

	if err := s.SeedAdminUser(); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	if err := s.SeedCourses(); err != nil {
		return fmt.Errorf("failed to seed courses: %w", err)
	}

	log.Println("Database seeding completed successfully!")
	return nil
}

// SeedAdminUser creates the default admin user from ADMIN_EMAIL and
// ADMIN_PASSWORD. Skipped when either variable is unset or an admin
// already exists.
func (s *Seeder) SeedAdminUser() error {
	var count int64
	if err := s.db.Model(&model.User{}).Where("role = ?", "admin").Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		log.Println("Admin user already exists, skipping...")
		return nil
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		log.Println("ADMIN_EMAIL and ADMIN_PASSWORD environment variables not set, skipping admin user creation")
		return nil
	}

	passwordHash, err := auth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &model.User{
		Email:        adminEmail,
		PasswordHash: passwordHash,
		Name:         "System Administrator",
		Role:         "admin",
	}

	if err := s.db.Create(admin).Error; err != nil {
		return err
	}

	log.Printf("Created admin user: %s", adminEmail)
	return nil
}

// SeedCourses creates a starter catalogue so manual payments can be
// recorded against something on a fresh install.
func (s *Seeder) SeedCourses() error {
	var count int64
	if err := s.db.Model(&model.Course{}).Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		log.Println("Courses already exist, skipping...")
		return nil
	}

	courses := []model.Course{
		{
			Title:       "Frontend Web Development",
			Code:        "FE-101",
			Description: "HTML, CSS, JavaScript and React fundamentals",
			Price:       decimal.NewFromInt(150000),
			Currency:    "NGN",
		},
		{
			Title:       "Backend Engineering with Go",
			Code:        "BE-201",
			Description: "APIs, databases and deployment with Go",
			Price:       decimal.NewFromInt(200000),
			Currency:    "NGN",
		},
		{
			Title:       "Data Analytics",
			Code:        "DA-101",
			Description: "Spreadsheets, SQL and dashboarding",
			Price:       decimal.NewFromInt(120000),
			Currency:    "NGN",
		},
	}

	if err := s.db.Create(&courses).Error; err != nil {
		return err
	}

	log.Printf("Created %d courses", len(courses))
	return nil
}

// RunSeeds is the entry point used by cmd/seed.
func RunSeeds(db *gorm.DB) error {
	return NewSeeder(db).SeedAll()
}
