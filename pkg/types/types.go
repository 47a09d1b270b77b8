package types

import (
	"slices"
	"time"
)

// Role is the platform role a user registered with
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// AnonymousName is shown for senders without an authenticated identity
const AnonymousName = "Anonymous"

// User is a registered platform account
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	RealName     string    `json:"real_name,omitempty" db:"real_name"`
	Role         Role      `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Identity is who a request or connection acts as.
// The zero value is the anonymous identity.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Anonymous returns the identity used when no credentials were presented
func Anonymous() Identity {
	return Identity{}
}

// Authenticated reports whether the identity belongs to a registered user
func (i Identity) Authenticated() bool {
	return i.UserID > 0
}

// DisplayName is the name shown next to chat messages
func (i Identity) DisplayName() string {
	if !i.Authenticated() || i.Username == "" {
		return AnonymousName
	}
	return i.Username
}

// Course is owned by the course registry. A user is never enrolled and
// blocked at the same time: blocking removes the enrollment.
type Course struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	TeacherID   int64     `json:"teacher_id" db:"teacher_id"`
	EnrolledIDs []int64   `json:"enrolled_ids"`
	BlockedIDs  []int64   `json:"blocked_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

func (c *Course) IsTeacher(userID int64) bool {
	return userID > 0 && c.TeacherID == userID
}

func (c *Course) IsEnrolled(userID int64) bool {
	return slices.Contains(c.EnrolledIDs, userID)
}

func (c *Course) IsBlocked(userID int64) bool {
	return slices.Contains(c.BlockedIDs, userID)
}

// ChatMessage is one persisted chat line. ID and Timestamp are assigned by
// the message store; the record is immutable afterwards.
type ChatMessage struct {
	ID        int64     `json:"id" db:"id"`
	CourseID  int64     `json:"course_id" db:"course_id"`
	SenderID  int64     `json:"sender_id" db:"sender_id"`
	Sender    string    `json:"sender" db:"sender"`
	Message   string    `json:"message" db:"message"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Notification is an entry in a user's asynchronous feed
type Notification struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"message"`
	IsRead    bool      `json:"is_read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Feedback is a student's comment on a course
type Feedback struct {
	ID        int64     `json:"id" db:"id"`
	CourseID  int64     `json:"course_id" db:"course_id"`
	StudentID int64     `json:"student_id" db:"student_id"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Material describes an uploaded course resource. File storage lives
// elsewhere; only the reference is kept here.
type Material struct {
	ID         string    `json:"id" db:"id"`
	CourseID   int64     `json:"course_id" db:"course_id"`
	Title      string    `json:"title" db:"title"`
	URL        string    `json:"url" db:"url"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// StatusUpdate is a short post on a user's own page
type StatusUpdate struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Profile is the public view of an account. Courses are the ones a teacher
// owns or a student is enrolled in.
type Profile struct {
	User     *User           `json:"user"`
	Statuses []*StatusUpdate `json:"statuses"`
	Courses  []*Course       `json:"courses"`
}
