package roadmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoadmap() *Roadmap {
	return &Roadmap{
		ID:    "rm-1",
		Title: "Learn Go",
		Stages: []Stage{
			{
				ID: "stage-1",
				Modules: []Module{
					{
						ID: "mod-1",
						Concepts: []Concept{
							{ID: "c1", Name: "Slices", ContentStatus: StatusPending, ResourcesStatus: StatusPending, QuizStatus: StatusPending},
							{ID: "c2", Name: "Maps", ContentStatus: StatusFailed, ResourcesStatus: StatusCompleted, QuizStatus: StatusFailed},
						},
					},
				},
			},
		},
	}
}

func TestStore_UpdateConceptStatus(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	from, ok := s.UpdateConceptStatus("c1", ContentTypeTutorial, StatusGenerating)
	require.True(t, ok)
	assert.Equal(t, StatusPending, from)

	got, found := s.ConceptStatus("c1", ContentTypeTutorial)
	require.True(t, found)
	assert.Equal(t, StatusGenerating, got)

	// Invalid transition: pending cannot jump straight to completed.
	_, ok = s.UpdateConceptStatus("c1", ContentTypeQuiz, StatusCompleted)
	assert.False(t, ok)
	got, _ = s.ConceptStatus("c1", ContentTypeQuiz)
	assert.Equal(t, StatusPending, got)

	// Unknown concept is a no-op.
	_, ok = s.UpdateConceptStatus("nope", ContentTypeTutorial, StatusGenerating)
	assert.False(t, ok)
}

func TestStore_ContentTypesAreIndependent(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	_, ok := s.UpdateConceptStatus("c1", ContentTypeResources, StatusGenerating)
	require.True(t, ok)
	_, ok = s.UpdateConceptStatus("c1", ContentTypeResources, StatusFailed)
	require.True(t, ok)

	tut, _ := s.ConceptStatus("c1", ContentTypeTutorial)
	res, _ := s.ConceptStatus("c1", ContentTypeResources)
	quiz, _ := s.ConceptStatus("c1", ContentTypeQuiz)
	assert.Equal(t, StatusPending, tut)
	assert.Equal(t, StatusFailed, res)
	assert.Equal(t, StatusPending, quiz)
}

func TestStore_ForceConceptStatus(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	// pending -> failed is not a legal event transition but stale demotion
	// must still be able to force it.
	_, ok := s.UpdateConceptStatus("c1", ContentTypeTutorial, StatusFailed)
	require.False(t, ok)

	from, ok := s.ForceConceptStatus("c1", ContentTypeTutorial, StatusFailed)
	require.True(t, ok)
	assert.Equal(t, StatusPending, from)

	got, _ := s.ConceptStatus("c1", ContentTypeTutorial)
	assert.Equal(t, StatusFailed, got)
}

func TestStore_ResetFailed(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	n := s.ResetFailed(AllContentTypes())
	assert.Equal(t, 2, n)

	tut, _ := s.ConceptStatus("c2", ContentTypeTutorial)
	quiz, _ := s.ConceptStatus("c2", ContentTypeQuiz)
	res, _ := s.ConceptStatus("c2", ContentTypeResources)
	assert.Equal(t, StatusGenerating, tut)
	assert.Equal(t, StatusGenerating, quiz)
	assert.Equal(t, StatusCompleted, res)
}

func TestStore_ResetFailedFiltersTypes(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	n := s.ResetFailed([]ContentType{ContentTypeQuiz})
	assert.Equal(t, 1, n)

	tut, _ := s.ConceptStatus("c2", ContentTypeTutorial)
	quiz, _ := s.ConceptStatus("c2", ContentTypeQuiz)
	assert.Equal(t, StatusFailed, tut)
	assert.Equal(t, StatusGenerating, quiz)
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.SetRoadmap(testRoadmap())
	u := <-ch
	assert.Equal(t, "", u.ConceptID) // whole-tree replacement

	s.UpdateConceptStatus("c1", ContentTypeTutorial, StatusGenerating)
	u = <-ch
	assert.Equal(t, "c1", u.ConceptID)
	assert.Equal(t, ContentTypeTutorial, u.ContentType)
	assert.Equal(t, StatusGenerating, u.Status)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestStore_RoadmapReturnsCopy(t *testing.T) {
	s := NewStore()
	s.SetRoadmap(testRoadmap())

	cp := s.Roadmap()
	require.NotNil(t, cp)
	cp.Stages[0].Modules[0].Concepts[0].ContentStatus = StatusCompleted

	got, _ := s.ConceptStatus("c1", ContentTypeTutorial)
	assert.Equal(t, StatusPending, got)

	assert.Nil(t, NewStore().Roadmap())
}
