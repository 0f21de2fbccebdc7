package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrUnauthorized  ErrCode = "UNAUTHORIZED"
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrNotFound             ErrCode = "NOT_FOUND"
	ErrNotActive            ErrCode = "NOT_ACTIVE"
	ErrAttemptsExhausted    ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive     ErrCode = "SESSION_NOT_ACTIVE"
	ErrAlreadySubmitted     ErrCode = "ALREADY_SUBMITTED"
	ErrTimeLimitExceeded    ErrCode = "TIME_LIMIT_EXCEEDED"
	ErrSubmissionInProgress ErrCode = "SUBMISSION_IN_PROGRESS"

	// ─── Certificates ──────────────────────────────────────────────────
	ErrInvalidCode     ErrCode = "INVALID_CODE"
	ErrExpired         ErrCode = "EXPIRED"
	ErrTooManyAttempts ErrCode = "TOO_MANY_ATTEMPTS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimited ErrCode = "RATE_LIMITED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrUnauthorized:
		return "Identitas pemanggil tidak valid."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrNotFound:
		return "Ujian tidak ditemukan."
	case ErrNotActive:
		return "Ujian ini saat ini tidak sedang berlangsung."
	case ErrAttemptsExhausted:
		return "Batas percobaan ujian sudah habis."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan."
	case ErrSessionNotActive:
		return "Sesi ujian tidak aktif."
	case ErrAlreadySubmitted:
		return "Ujian sudah dikumpulkan."
	case ErrTimeLimitExceeded:
		return "Waktu ujian telah habis."
	case ErrSubmissionInProgress:
		return "Pengumpulan sedang diproses. Silakan tunggu."

	// ─── Certificates ──────────────────────────────────────────────────
	case ErrInvalidCode:
		return "Kode verifikasi tidak valid."
	case ErrExpired:
		return "Sertifikat telah kedaluwarsa."
	case ErrTooManyAttempts:
		return "Terlalu banyak percobaan verifikasi. Silakan coba lagi nanti."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimited:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
