package models

type Clinic struct {
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
}

type Doctor struct {
	DoctorID   string `json:"doctor_id"`
	ClinicID   string `json:"clinic_id"`
	ClinicCode string `json:"clinic_code,omitempty"`
	Name       string `json:"name"`
}

type ScheduleEntry struct {
	DoctorID  string `json:"doctor_id"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type Leave struct {
	DoctorID  string `json:"doctor_id"`
	LeaveDate string `json:"leave_date"`
	Reason    string `json:"reason,omitempty"`
}
