package eyes

// Stage names of the default pipeline.
const (
	StageClarify        = "clarify"
	StageRewrite        = "rewrite"
	StageValidateClaims = "validate_claims"
	StageReviewCode     = "review_code"
	StageFinalize       = "finalize"
)

// DefaultRegistry returns the standard pipeline:
// clarify -> rewrite -> {validate_claims, review_code, finalize}.
func DefaultRegistry() *Registry {
	r := NewRegistry(StageClarify)
	r.MustRegister(&PromptEye{
		StageName: StageClarify,
		Instructions: `You are the clarification gate. Decide whether the task is specific enough to act on.
If it is ambiguous, set ok to false with code NEEDS_CLARIFICATION and list the open questions in data.questions.`,
		NextAction: StageRewrite,
	})
	r.MustRegister(&PromptEye{
		StageName: StageRewrite,
		After:     []string{StageClarify},
		Instructions: `You rewrite the clarified task into a precise, self-contained instruction.
Put the rewritten task in data.rewritten.`,
		NextAction: StageFinalize,
	})
	r.MustRegister(&PromptEye{
		StageName: StageValidateClaims,
		After:     []string{StageRewrite},
		Instructions: `You check every factual claim in the input. Reject with code REJECTED when a claim is unsupported
and list the offending claims in data.claims.`,
	})
	r.MustRegister(&PromptEye{
		StageName: StageReviewCode,
		After:     []string{StageRewrite},
		Instructions: `You review the code in the input for defects. Use OK_WITH_WARNINGS for minor issues and REJECTED
for blocking ones. List findings in data.findings.`,
	})
	r.MustRegister(&PromptEye{
		StageName: StageFinalize,
		After:     []string{StageRewrite},
		Instructions: `You give the final approval of the work. Summarize the outcome in data.summary.`,
		NextAction: "DONE",
	})
	return r
}
