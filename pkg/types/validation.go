package types

import "regexp"

// Session join codes are fixed-length samples from a fixed alphabet.
// The code space (36^6 ≈ 2.2 billion) makes collisions among active
// sessions practically impossible at classroom scale.
const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6
)

var codeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// IsValidSessionCode reports whether code has the exact join-code
// shape: 6 uppercase alphanumeric characters.
func IsValidSessionCode(code string) bool {
	return codeRegex.MatchString(code)
}

// IsValidName reports whether a display name is acceptable: 1-100
// characters with at least one non-space character.
func IsValidName(name string) bool {
	if len(name) < 1 || len(name) > 100 {
		return false
	}
	for _, r := range name {
		if r != ' ' && r != '\t' {
			return true
		}
	}
	return false
}

// DefaultTemplate is the HTML document installed in every new session
// until the teacher pushes their own.
const DefaultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>My page</title>
</head>
<body>
    <h1>Hello world!</h1>

</body>
</html>`
