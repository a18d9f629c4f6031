package api

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type RegisterResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Token    string `json:"token"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type ReserveRequest struct {
	Date    string `json:"date"`
	Vaccine string `json:"vaccine"`
}

type ReserveResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	Caregiver     string `json:"caregiver"`
}

type CancelResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	Date          string `json:"date"`
	Caregiver     string `json:"caregiver"`
	Vaccine       string `json:"vaccine"`
	Patient       string `json:"patient"`
}

type AvailabilityRequest struct {
	Date string `json:"date"`
}

type AddDosesRequest struct {
	Amount int `json:"amount"`
}

type DosesResponse struct {
	Vaccine string `json:"vaccine"`
	Doses   int    `json:"doses"`
}

type ScheduleEntryResponse struct {
	Caregiver string `json:"caregiver"`
	Vaccine   string `json:"vaccine"`
	Doses     int    `json:"doses"`
}

type AppointmentSummaryResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	Vaccine       string `json:"vaccine"`
	Date          string `json:"date"`
	Counterparty  string `json:"counterparty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
