package nlu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/bookingbot/internal/model"
)

// fixedNow is a Wednesday, so relative dates resolve deterministically.
var fixedNow = time.Date(2026, 9, 2, 10, 0, 0, 0, time.Local)

func fixedRecognizer() *RuleRecognizer {
	r := NewRuleRecognizer()
	r.Now = func() time.Time { return fixedNow }
	return r
}

func parseIntent(t *testing.T, text string, state model.ConversationState) *model.Intent {
	t.Helper()
	intent, err := fixedRecognizer().Parse(context.Background(), text, Context{State: state})
	require.NoError(t, err)
	return intent
}

func extract(t *testing.T, text string, state model.ConversationState) model.EntityBag {
	t.Helper()
	bag, err := fixedRecognizer().Extract(context.Background(), text, Context{State: state})
	require.NoError(t, err)
	return bag
}

func TestParseIntents(t *testing.T) {
	cases := []struct {
		text string
		want model.IntentName
	}{
		{"I want to reschedule my appointment", model.IntentReschedule},
		{"please cancel my appointment", model.IntentCancel},
		{"I'd like to book an appointment", model.IntentBookAppointment},
		{"can you check my appointment", model.IntentCheck},
		{"thanks, bye", model.IntentGoodbye},
		{"yes that works", model.IntentConfirm},
		{"no, wrong", model.IntentDeny},
		{"hello", model.IntentGreeting},
	}
	for _, tc := range cases {
		intent := parseIntent(t, tc.text, model.StateDetectIntent)
		assert.Equal(t, tc.want, intent.Name, "text: %q", tc.text)
	}
}

func TestParseRescheduleBeatsCancel(t *testing.T) {
	// "cancel" inside a reschedule request must not win
	intent := parseIntent(t, "I need to change my appointment time", model.StateDetectIntent)
	assert.Equal(t, model.IntentReschedule, intent.Name)
}

func TestParseFreeFormMidFlowIsAnAnswer(t *testing.T) {
	intent := parseIntent(t, "the 15th of September", model.StateSelectDate)
	assert.Equal(t, model.IntentProvideInfo, intent.Name)
	assert.InDelta(t, 0.5, intent.Confidence, 0.01)

	intent = parseIntent(t, "the weather is nice", model.StateDetectIntent)
	assert.Equal(t, model.IntentUnknown, intent.Name)
}

func TestExtractDates(t *testing.T) {
	bag := extract(t, "how about 2026-09-15", model.StateSelectDate)
	assert.Equal(t, "2026-09-15", bag[model.EntityDate])

	bag = extract(t, "tomorrow would be great", model.StateSelectDate)
	assert.Equal(t, "2026-09-03", bag[model.EntityDate])

	// fixedNow is Wednesday; plain "friday" is this week's
	bag = extract(t, "friday please", model.StateSelectDate)
	assert.Equal(t, "2026-09-04", bag[model.EntityDate])

	bag = extract(t, "next friday please", model.StateSelectDate)
	assert.Equal(t, "2026-09-11", bag[model.EntityDate])

	bag = extract(t, "25/12/2026", model.StateSelectDate)
	assert.Equal(t, "2026-12-25", bag[model.EntityDate])
}

func TestExtractTimes(t *testing.T) {
	bag := extract(t, "2:30 pm works", model.StateSelectSlot)
	assert.Equal(t, "14:30", bag[model.EntityTime])

	bag = extract(t, "let's do 09:15", model.StateSelectSlot)
	assert.Equal(t, "09:15", bag[model.EntityTime])

	bag = extract(t, "around noon", model.StateSelectSlot)
	assert.Equal(t, "12:00", bag[model.EntityTime])

	bag = extract(t, "12 am", model.StateSelectSlot)
	assert.Equal(t, "00:00", bag[model.EntityTime])
}

func TestExtractDateOfBirth(t *testing.T) {
	bag := extract(t, "I was born on 12/04/1985", model.StateCollectDOB)
	assert.Equal(t, "1985-04-12", bag[model.EntityDateOfBirth])
	// a birth date must not double as an appointment date
	_, hasDate := bag[model.EntityDate]
	assert.False(t, hasDate)

	bag = extract(t, "my dob is 1985-04-12", model.StateCollectDOB)
	assert.Equal(t, "1985-04-12", bag[model.EntityDateOfBirth])
}

func TestExtractPhone(t *testing.T) {
	bag := extract(t, "call me at +1 (555) 010-0199", model.StateCollectPhone)
	assert.Equal(t, "+15550100199", bag[model.EntityPhone])
}

func TestExtractDoctorAndDepartment(t *testing.T) {
	bag := extract(t, "I'd like to see Dr. Grant", model.StateSelectDoctor)
	assert.Equal(t, "Grant", bag[model.EntityDoctorName])

	bag = extract(t, "could we see doctor smith", model.StateSelectDoctor)
	assert.Equal(t, "smith", bag[model.EntityDoctorName])

	bag = extract(t, "someone in cardiology", model.StateSelectDoctor)
	assert.Equal(t, "cardiology", bag[model.EntityDepartment])
}

func TestExtractPatientName(t *testing.T) {
	bag := extract(t, "my name is John Doe", model.StateCollectName)
	assert.Equal(t, "John Doe", bag[model.EntityPatientName])

	// a bare name only counts while a name is being collected
	bag = extract(t, "John Doe", model.StateCollectName)
	assert.Equal(t, "John Doe", bag[model.EntityPatientName])

	bag = extract(t, "John Doe", model.StateSelectDate)
	_, ok := bag[model.EntityPatientName]
	assert.False(t, ok)
}

func TestNormalizeDate(t *testing.T) {
	got, ok := NormalizeDate("2026-09-15")
	require.True(t, ok)
	assert.Equal(t, "2026-09-15", got)

	got, ok = NormalizeDate("25/12/2026")
	require.True(t, ok)
	assert.Equal(t, "2026-12-25", got)

	// month-first input is recognized and swapped
	got, ok = NormalizeDate("12/25/2026")
	require.True(t, ok)
	assert.Equal(t, "2026-12-25", got)

	_, ok = NormalizeDate("45/45/2026")
	assert.False(t, ok)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+15550100199", NormalizePhone("+1 (555) 010-0199"))
	assert.Equal(t, "5550100199", NormalizePhone("555-010-0199"))
}
