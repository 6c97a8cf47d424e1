package generation

// Prompt is the fixed instruction sent to the generator for a target language.
func Prompt(language string) string {
	return "Generate a " + language + " code snippet that can trigger compiler crash." +
		"Strictly use the format of:<think>the content of the thinking</think><code>content code</code>"
}
