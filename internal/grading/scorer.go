// Package grading scores submitted exam attempts against an answer key.
package grading

import "math"

// Question is the part of a bank question the scorer needs.
type Question struct {
	ID            uint
	CorrectAnswer string
	Marks         int
}

// Submission is a student's answer to one question.
type Submission struct {
	QuestionID       uint
	SelectedAnswer   string
	TimeSpentSeconds int
}

// ScoredAnswer is the graded counterpart of a submission, in exam order.
type ScoredAnswer struct {
	QuestionID       uint
	Position         int
	SelectedAnswer   string
	Answered         bool
	IsCorrect        bool
	MarksObtained    int
	TimeSpentSeconds int
}

// Result is the outcome of scoring one attempt.
type Result struct {
	Answers       []ScoredAnswer
	TotalMarks    int
	MarksObtained int
	Percentage    float64
	IsPassed      bool
}

// Score grades answers against the ordered exam questions. Answers are compared with exact,
// case-sensitive equality and no trimming; unanswered questions score zero. Submissions for
// questions outside the exam are ignored, and for repeated question ids the last one wins.
func Score(questions []Question, totalMarks, passingMarks int, answers []Submission) Result {
	byQuestion := make(map[uint]Submission, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	result := Result{
		Answers:    make([]ScoredAnswer, 0, len(questions)),
		TotalMarks: totalMarks,
	}

	for position, question := range questions {
		scored := ScoredAnswer{QuestionID: question.ID, Position: position}

		if submitted, ok := byQuestion[question.ID]; ok {
			scored.Answered = true
			scored.SelectedAnswer = submitted.SelectedAnswer
			scored.TimeSpentSeconds = max(submitted.TimeSpentSeconds, 0)
			if submitted.SelectedAnswer == question.CorrectAnswer {
				scored.IsCorrect = true
				scored.MarksObtained = max(question.Marks, 0)
			}
		}

		result.MarksObtained += scored.MarksObtained
		result.Answers = append(result.Answers, scored)
	}

	result.Percentage = Percentage(result.MarksObtained, totalMarks)
	result.IsPassed = result.MarksObtained >= passingMarks

	return result
}

// Percentage returns obtained/total*100 rounded to two decimals; a zero total yields 0.
func Percentage(obtained, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round2(float64(obtained) / float64(total) * 100)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}
