package account

import (
	"time"

	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

type Account struct {
	Username     string
	PasswordHash string
	Role         scheduling.Role
	CreatedAt    time.Time
}
