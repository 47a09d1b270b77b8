package api

import (
	"context"
	"net/http"
	"time"

	"coursechat/internal/auth"
	"coursechat/pkg/types"
)

type CreateCourseRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

type FeedbackRequest struct {
	Comment string `json:"comment" validate:"required,max=5000"`
}

type MaterialRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	URL   string `json:"url" validate:"required,uri"`
}

type CourseResponse struct {
	Course    *types.Course     `json:"course"`
	Materials []*types.Material `json:"materials"`
	Feedback  []*types.Feedback `json:"feedback"`
}

// HistoryMessage is one line of the chat history as the room page renders it
type HistoryMessage struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is either the ordered history or the not-enrolled denial
type HistoryResponse struct {
	Enrolled bool             `json:"enrolled"`
	CourseID int64            `json:"course_id,omitempty"`
	Messages []HistoryMessage `json:"messages,omitempty"`
	Message  string           `json:"message,omitempty"`
}

const notEnrolledMessage = "You are not enrolled in this course."

// GET /api/courses
func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.deps.Courses.ListCourses(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if courses == nil {
		courses = []*types.Course{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"courses": courses})
}

// POST /api/courses
func (s *Server) createCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.deps.Courses.CreateCourse(r.Context(), auth.IdentityFromContext(r.Context()), req.Title, req.Description)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, CourseResponse{Course: c, Materials: []*types.Material{}, Feedback: []*types.Feedback{}})
}

// GET /api/courses/{id}. Materials are only listed for members.
func (s *Server) getCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := s.deps.Courses.GetCourse(ctx, courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	materials, err := s.deps.Courses.ListMaterials(ctx, auth.IdentityFromContext(ctx), courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	feedback, err := s.deps.Courses.ListFeedback(ctx, courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if materials == nil {
		materials = []*types.Material{}
	}
	if feedback == nil {
		feedback = []*types.Feedback{}
	}
	s.sendJSON(w, http.StatusOK, CourseResponse{Course: c, Materials: materials, Feedback: feedback})
}

// POST /api/courses/{id}/enroll
func (s *Server) enroll(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Courses.Enroll(r.Context(), auth.IdentityFromContext(r.Context()), courseID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Enrolled successfully."})
}

// DELETE /api/courses/{id}/students/{sid}
func (s *Server) removeStudent(w http.ResponseWriter, r *http.Request) {
	s.studentAction(w, r, s.deps.Courses.RemoveStudent, "Student removed from the course.")
}

// POST /api/courses/{id}/students/{sid}/block
func (s *Server) blockStudent(w http.ResponseWriter, r *http.Request) {
	s.studentAction(w, r, s.deps.Courses.BlockStudent, "Student blocked from the course.")
}

// POST /api/courses/{id}/students/{sid}/unblock
func (s *Server) unblockStudent(w http.ResponseWriter, r *http.Request) {
	s.studentAction(w, r, s.deps.Courses.UnblockStudent, "Student unblocked.")
}

func (s *Server) studentAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, actor types.Identity, courseID, studentID int64) error, done string) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	studentID, ok := s.pathID(w, r, "sid")
	if !ok {
		return
	}
	if err := action(r.Context(), auth.IdentityFromContext(r.Context()), courseID, studentID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"message": done})
}

// GET /api/courses/{id}/feedback
func (s *Server) listFeedback(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	feedback, err := s.deps.Courses.ListFeedback(r.Context(), courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if feedback == nil {
		feedback = []*types.Feedback{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

// POST /api/courses/{id}/feedback
func (s *Server) addFeedback(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req FeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	f, err := s.deps.Courses.AddFeedback(r.Context(), auth.IdentityFromContext(r.Context()), courseID, req.Comment)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{"feedback": f})
}

// GET /api/courses/{id}/materials
func (s *Server) listMaterials(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	materials, err := s.deps.Courses.ListMaterials(r.Context(), auth.IdentityFromContext(r.Context()), courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if materials == nil {
		materials = []*types.Material{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"materials": materials})
}

// POST /api/courses/{id}/materials
func (s *Server) addMaterial(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req MaterialRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := s.deps.Courses.AddMaterial(r.Context(), auth.IdentityFromContext(r.Context()), courseID, req.Title, req.URL)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{"material": m})
}

// GET /api/courses/{id}/chat. A caller without membership gets a rendered
// denial with status 200, never the message list.
func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	courseID, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if !s.deps.Gate.CanJoin(ctx, auth.IdentityFromContext(ctx), courseID) {
		s.sendJSON(w, http.StatusOK, HistoryResponse{Enrolled: false, Message: notEnrolledMessage})
		return
	}

	msgs, err := s.deps.History.History(ctx, courseID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	out := make([]HistoryMessage, len(msgs))
	for i, m := range msgs {
		name := m.Sender
		if name == "" {
			name = types.AnonymousName
		}
		out[i] = HistoryMessage{ID: m.ID, Username: name, Message: m.Message, Timestamp: m.Timestamp}
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Enrolled: true, CourseID: courseID, Messages: out})
}
