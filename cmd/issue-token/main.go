package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// issue-token signs a student or admin JWT with the configured secret, for
// local testing against the proctoring API.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	authService := service.NewAuthService(cfg)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Access Token ===")

	kind := service.TokenType(prompt(reader, "Token type [student/admin] (default student): "))
	if kind == "" {
		kind = service.TokenTypeStudent
	}
	if kind != service.TokenTypeStudent && kind != service.TokenTypeAdmin {
		fmt.Println("Error: token type must be student or admin")
		return
	}

	subjectID, ok := promptInt(reader, "Enter User ID: ", 0)
	if !ok || subjectID <= 0 {
		fmt.Println("Error: User ID must be a positive number")
		return
	}

	schoolID, ok := promptInt(reader, "Enter School ID (default 1): ", 1)
	if !ok {
		fmt.Println("Error: School ID must be a number")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	var token string
	var err error
	if kind == service.TokenTypeAdmin {
		roleID, ok := promptInt(reader, "Enter Role ID (default 1): ", 1)
		if !ok {
			fmt.Println("Error: Role ID must be a number")
			return
		}
		perms := splitPermissions(prompt(reader,
			"Permissions, comma separated (default "+service.PermissionExamsProctor+","+service.PermissionExamsGrade+"): "))
		token, err = authService.IssueAdminToken(subjectID, schoolID, roleID, perms)
	} else {
		token, err = authService.IssueStudentToken(subjectID, schoolID)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Printf("\nSuccess! %s token for user %d (school %d), valid for %s:\n%s\n",
		kind, subjectID, schoolID, cfg.JWTExpiry, token)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptInt(r *bufio.Reader, label string, fallback int) (int, bool) {
	raw := prompt(r, label)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitPermissions(raw string) []string {
	if raw == "" {
		return []string{service.PermissionExamsProctor, service.PermissionExamsGrade}
	}
	var perms []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}
