package core

// TutorReply is the structured response from the tutor collaborator for one
// user utterance.
type TutorReply struct {
	Text        string   // In-character reply in the target language.
	Translation string   // Reply translated into the explanation language.
	Feedback    Feedback // Correction for the utterance that prompted the reply.
}
