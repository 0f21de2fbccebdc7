package validator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestFlagKindValidator(t *testing.T) {
	Setup()

	assert.Nil(t, Struct(&model.SecurityFlagRequest{Kind: model.FlagTabSwitch}))

	fields := Struct(&model.SecurityFlagRequest{Kind: "SCREENSHOT"})
	assert.Equal(t, "kind must be a known security flag kind", fields["kind"])

	fields = Struct(&model.SecurityFlagRequest{})
	assert.Contains(t, fields, "kind")
}

func TestAutoSaveRequestValidation(t *testing.T) {
	Setup()
	idx := 0

	ok := &model.AutoSaveRequest{
		Answers:              []model.Answer{{QuestionID: uuid.New(), Kind: model.AnswerKindText, Text: "x"}},
		CurrentQuestionIndex: &idx,
	}
	assert.Nil(t, Struct(ok))

	fields := Struct(&model.AutoSaveRequest{})
	assert.Contains(t, fields, "current_question_index")

	bad := &model.AutoSaveRequest{
		Answers:              []model.Answer{{QuestionID: uuid.New(), Kind: "ESSAY"}},
		CurrentQuestionIndex: &idx,
	}
	fields = Struct(bad)
	assert.Equal(t, "kind must be CHOICE or TEXT", fields["answers[0].kind"])
}

func TestSetupIsIdempotent(t *testing.T) {
	Setup()
	Setup()
	assert.NotNil(t, trans)
}
