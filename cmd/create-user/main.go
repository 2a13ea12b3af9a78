package main

import (
	"flag"
	"fmt"
	"os"

	"lessonplan/backend/internal/auth"
	"lessonplan/backend/internal/config"
	"lessonplan/backend/internal/domain"
	sqlstore "lessonplan/backend/internal/storage/sql"
)

// main 在 SQL 用户表中创建已激活账号
func main() {
	roleStr := flag.String("role", string(domain.RoleTeacher), "角色: teacher 或 admin")
	username := flag.String("username", "", "用户名（可选）")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Println("Usage: create-user [-role=admin] [-username=name] <email> <password>")
		os.Exit(1)
	}
	email, password := flag.Arg(0), flag.Arg(1)

	role := domain.UserRole(*roleStr)
	if role != domain.RoleTeacher && role != domain.RoleAdmin {
		fmt.Printf("Invalid role: %s\n", *roleStr)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Type == "" {
		fmt.Println("LESSONPLAN_DATABASE_TYPE is not set; users created in memory would be lost on exit")
		os.Exit(1)
	}

	store, err := sqlstore.NewStore(cfg.Database, nil)
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	user, err := auth.NewService(store, nil).Register(auth.RegisterInput{
		Email:    email,
		Password: password,
		Username: *username,
		Role:     role,
		Active:   true,
	})
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ User created successfully!\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Email:    %s\n", user.Email)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Role:     %s\n", user.Role)
}
