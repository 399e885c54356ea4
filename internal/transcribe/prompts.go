package transcribe

import "strings"

// promptTemplates keys prompts by conversation type; {language} is
// substituted with the requested transcription language.
var promptTemplates = map[string]string{
	"Interview": `Transcribe this audio in {language} and provide interview analysis.

Format:
1. TRANSCRIPTION: [full transcription]
2. OVERALL ASSESSMENT: [rating and summary]
3. STRENGTHS: [bullet points]
4. WEAKNESSES: [bullet points]
5. RECOMMENDATIONS: [specific advice]`,

	"Business Meeting": `Transcribe this audio in {language} and provide business meeting summary.

Format:
1. TRANSCRIPTION: [full transcription]
2. SUMMARY: [key points discussed]
3. ACTION ITEMS: [list of tasks/decisions with responsible parties if mentioned]
4. NEXT STEPS: [follow-up actions]`,
}

// promptFor builds the generation prompt for a conversation type. Unknown
// types fall back to a plain transcription prompt.
func promptFor(conversationType, language string) string {
	template, ok := promptTemplates[conversationType]
	if !ok {
		template = "Transcribe this audio in {language}."
	}
	return strings.ReplaceAll(template, "{language}", language)
}
