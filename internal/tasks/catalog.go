// Package tasks holds the immutable exercise catalog and the
// validation/scoring engine that grades submissions against it.
package tasks

import "codeshare/pkg/types"

// Catalog is a read-only, ordered set of tasks.
type Catalog struct {
	tasks []types.Task
	byID  map[int]types.Task
}

// NewCatalog indexes a task list by id. Order is preserved for List.
func NewCatalog(tasks []types.Task) *Catalog {
	byID := make(map[int]types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return &Catalog{tasks: tasks, byID: byID}
}

// List returns the catalog in definition order.
func (c *Catalog) List() []types.Task {
	out := make([]types.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Get looks a task up by id.
func (c *Catalog) Get(id int) (types.Task, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Default returns the built-in HTML exercise set.
func Default() *Catalog {
	return NewCatalog([]types.Task{
		{
			ID:          1,
			Title:       "First Heading",
			Description: "Add a level-one heading with some text inside it.",
			Difficulty:  types.DifficultyEasy,
			Points:      10,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n\n</body>\n</html>",
			Hints: []string{
				"Headings use the <h1> tag.",
				"The text goes between the opening and closing tags.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleContains, Pattern: "<h1", Message: "The page has an <h1> heading"},
				{Kind: types.RuleRegex, Pattern: `(?is)<h1[^>]*>\s*\S`, Message: "The heading is not empty"},
			},
		},
		{
			ID:          2,
			Title:       "Paragraphs and a List",
			Description: "Write a paragraph and an unordered list with at least three items.",
			Difficulty:  types.DifficultyEasy,
			Points:      15,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n  <h1>My hobbies</h1>\n\n</body>\n</html>",
			Hints: []string{
				"Paragraphs use the <p> tag.",
				"A bullet list is <ul> with <li> items inside.",
				"You need at least three <li> elements.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleContains, Pattern: "<p", Message: "The page has a paragraph"},
				{Kind: types.RuleContains, Pattern: "<ul", Message: "The page has an unordered list"},
				{Kind: types.RuleMinCount, Pattern: "<li", Min: 3, Message: "The list has at least three items"},
			},
		},
		{
			ID:          3,
			Title:       "Image with a Link",
			Description: "Show an image with alternative text and add a link to another page.",
			Difficulty:  types.DifficultyMedium,
			Points:      20,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n  <h1>Gallery</h1>\n\n</body>\n</html>",
			Hints: []string{
				"Images use <img> with a src attribute.",
				"The alt attribute describes the image for screen readers.",
				"Links are <a> tags with an href attribute.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleRegex, Pattern: `(?i)<img[^>]+src=`, Message: "There is an image with a src attribute"},
				{Kind: types.RuleContains, Pattern: "alt=", Message: "The image has alternative text"},
				{Kind: types.RuleRegex, Pattern: `(?i)<a[^>]+href=`, Message: "There is a link with an href attribute"},
			},
		},
		{
			ID:          4,
			Title:       "Data Table",
			Description: "Build a table with a header row and at least two data rows.",
			Difficulty:  types.DifficultyMedium,
			Points:      25,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n  <h1>Class schedule</h1>\n\n</body>\n</html>",
			Hints: []string{
				"Tables are built from <table>, <tr>, <th> and <td> tags.",
				"Header cells use <th>, data cells use <td>.",
				"Each row is one <tr> element.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleContains, Pattern: "<table", Message: "The page has a table"},
				{Kind: types.RuleContains, Pattern: "<th", Message: "The table has header cells"},
				{Kind: types.RuleMinCount, Pattern: "<tr", Min: 3, Message: "The table has a header row and at least two data rows"},
				{Kind: types.RuleMinCount, Pattern: "<td", Min: 4, Message: "The data rows have at least two cells each"},
			},
		},
		{
			ID:          5,
			Title:       "Contact Form",
			Description: "Create a form with a labelled text input, an email input, and a submit button.",
			Difficulty:  types.DifficultyHard,
			Points:      30,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n  <h1>Contact us</h1>\n\n</body>\n</html>",
			Hints: []string{
				"Forms wrap their fields in a <form> tag.",
				"Use <label> so every field has a caption.",
				"Input types: text for names, email for addresses.",
				"A <button> inside the form submits it.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleContains, Pattern: "<form", Message: "The page has a form"},
				{Kind: types.RuleContains, Pattern: "<label", Message: "The form has a label"},
				{Kind: types.RuleRegex, Pattern: `(?i)<input[^>]+type=["']?text`, Message: "There is a text input"},
				{Kind: types.RuleRegex, Pattern: `(?i)<input[^>]+type=["']?email`, Message: "There is an email input"},
				{Kind: types.RuleContains, Pattern: "<button", Message: "The form has a submit button"},
			},
		},
		{
			ID:          6,
			Title:       "Semantic Layout",
			Description: "Structure a page with semantic header, navigation, main content, and footer sections.",
			Difficulty:  types.DifficultyHard,
			Points:      35,
			StarterCode: "<!DOCTYPE html>\n<html>\n<body>\n\n</body>\n</html>",
			Hints: []string{
				"HTML5 has dedicated tags for page regions.",
				"Use <header>, <nav>, <main> and <footer> instead of plain <div>s.",
				"Navigation links live inside <nav>.",
			},
			Rules: []types.ValidationRule{
				{Kind: types.RuleContains, Pattern: "<header", Message: "The page has a header section"},
				{Kind: types.RuleContains, Pattern: "<nav", Message: "The page has a navigation section"},
				{Kind: types.RuleContains, Pattern: "<main", Message: "The page has a main content section"},
				{Kind: types.RuleContains, Pattern: "<footer", Message: "The page has a footer section"},
			},
		},
	})
}
