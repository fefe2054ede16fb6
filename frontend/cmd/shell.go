package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"

	"github.com/jghoshh/habittree/backend/engine"
	"github.com/jghoshh/habittree/backend/models"
	"github.com/jghoshh/habittree/frontend/client"
	"github.com/jghoshh/habittree/lib/utils"
)

// The Command struct defines a user command in the shell. Each command has a Name, a
// Desc (short for description), and a Func (the function to execute when the command
// is called).
type Command struct {
	Name string
	Desc string
	Func func(c *ishell.Context)
}

// Shell is the interactive habit tracker prompt. Guest commands are swapped for user
// commands once a token is stored, and back again on logout or when the token expires.
type Shell struct {
	shell          *ishell.Shell
	api            *client.Client
	loggedIn       bool
	guestCommands  []Command
	userCommands   []Command
	commonCommands []Command
}

// NewShell builds the shell around api. If the keyring already holds a valid token
// the user starts logged in.
func NewShell(api *client.Client) *Shell {
	s := &Shell{shell: ishell.New(), api: api}
	s.guestCommands = []Command{
		{Name: "login", Desc: "Store an access token: login <token>", Func: s.login},
	}
	s.userCommands = []Command{
		{Name: "habits", Desc: "List your habits: habits [daily|weekly|monthly]", Func: s.habits},
		{Name: "add", Desc: "Create a new habit", Func: s.add},
		{Name: "toggle", Desc: "Complete or undo today's completion: toggle <id>", Func: s.toggle},
		{Name: "delete", Desc: "Delete a habit: delete <id>", Func: s.delete},
		{Name: "history", Desc: "Show the completion history of a habit: history <id>", Func: s.history},
		{Name: "backfill", Desc: "Edit a past day: backfill <id> <YYYY-MM-DD> <true|false>", Func: s.backfill},
		{Name: "progress", Desc: "Show your level, tree and streaks", Func: s.progress},
		{Name: "leaderboard", Desc: "Rank yourself against your friends", Func: s.leaderboard},
		{Name: "friend", Desc: "Link a friend for the leaderboard: friend <user id>", Func: s.friend},
		{Name: "logout", Desc: "Forget the stored access token", Func: s.logout},
	}
	s.commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
		{Name: "help", Desc: "List available commands", Func: s.help},
	}

	if _, err := api.Token(); err == nil {
		s.loggedIn = true
	}
	return s
}

// addCommands adds the given commands to the shell.
func (s *Shell) addCommands(commands []Command) {
	for _, command := range commands {
		s.shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: command.Desc,
			Func: command.Func,
		})
	}
}

func (s *Shell) removeCommands(commands []Command) {
	for _, command := range commands {
		s.shell.DeleteCmd(command.Name)
	}
}

func (s *Shell) setLoggedIn(loggedIn bool) {
	if loggedIn == s.loggedIn {
		return
	}
	s.loggedIn = loggedIn
	if loggedIn {
		s.removeCommands(s.guestCommands)
		s.addCommands(s.userCommands)
	} else {
		s.removeCommands(s.userCommands)
		s.addCommands(s.guestCommands)
	}
}

// report prints err and drops back to guest mode when the session is gone.
func (s *Shell) report(err error) {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrTokenExpired),
		errors.Is(err, client.ErrNotLoggedIn),
		errors.As(err, &apiErr) && apiErr.Status == 401:
		utils.PrintError("Session expired, please log in again with 'login <token>'.")
		_ = s.api.Logout()
		s.setLoggedIn(false)
	default:
		utils.PrintError(err.Error())
	}
}

func (s *Shell) login(c *ishell.Context) {
	if len(c.Args) != 1 {
		utils.PrintError("usage: login <token>")
		return
	}
	if err := s.api.Login(c.Args[0]); err != nil {
		utils.PrintError(err.Error())
		return
	}
	s.setLoggedIn(true)
	c.Println("Welcome, you are now logged in.")
}

func (s *Shell) logout(c *ishell.Context) {
	if err := s.api.Logout(); err != nil {
		utils.PrintError(err.Error())
		return
	}
	s.setLoggedIn(false)
	c.Println("You are now logged out.")
}

func (s *Shell) habits(c *ishell.Context) {
	var category models.Category
	if len(c.Args) > 0 {
		category = models.Category(c.Args[0])
	}
	habits, err := s.api.Habits(category)
	if err != nil {
		s.report(err)
		return
	}
	if len(habits) == 0 {
		c.Println("No habits yet. Type 'add' to create one.")
		return
	}
	for _, h := range habits {
		c.Println(formatHabit(h))
	}
}

func formatHabit(h models.Habit) string {
	mark := " "
	if h.IsCompleted {
		mark = "x"
	}
	return fmt.Sprintf("[%s] %s  %-24s %-8s streak %d  points %d", mark, h.ID.Hex(), h.Title, h.Category, h.Streak, h.Points)
}

func (s *Shell) add(c *ishell.Context) {
	var in engine.NewHabit
	for {
		c.Print("Title: ")
		in.Title = strings.TrimSpace(c.ReadLine())
		if in.Title != "" {
			break
		}
		c.Println("Title cannot be empty.")
	}
	c.Print("Description (optional): ")
	in.Description = strings.TrimSpace(c.ReadLine())

	categories := []models.Category{models.CategoryDaily, models.CategoryWeekly, models.CategoryMonthly}
	choice := c.MultiChoice([]string{"daily", "weekly", "monthly"}, "Category:")
	if choice < 0 {
		choice = 0
	}
	in.Category = categories[choice]

	c.Print("Color (blank for default): ")
	in.Color = strings.TrimSpace(c.ReadLine())

	habit, err := s.api.AddHabit(in)
	if err != nil {
		s.report(err)
		return
	}
	c.Println("Created habit " + habit.ID.Hex() + ".")
}

func (s *Shell) toggle(c *ishell.Context) {
	if len(c.Args) != 1 {
		utils.PrintError("usage: toggle <id>")
		return
	}
	result, err := s.api.Toggle(c.Args[0])
	if err != nil {
		s.report(err)
		return
	}
	if result.Habit.IsCompleted {
		c.Printf("Completed %q: +%d XP, streak %d.\n", result.Habit.Title, result.XP, result.Habit.Streak)
	} else {
		c.Printf("Undid %q: %d XP.\n", result.Habit.Title, result.XP)
	}
	if result.LeveledUp {
		utils.PrintBanner(fmt.Sprintf("Level up! You reached level %d and your tree is a %s.", result.Progress.Level, result.Progress.TreeStage))
	}
}

func (s *Shell) delete(c *ishell.Context) {
	if len(c.Args) != 1 {
		utils.PrintError("usage: delete <id>")
		return
	}
	c.Print("Are you sure you want to delete this habit? (yes/no): ")
	if strings.ToLower(strings.TrimSpace(c.ReadLine())) != "yes" {
		return
	}
	if err := s.api.DeleteHabit(c.Args[0]); err != nil {
		s.report(err)
		return
	}
	c.Println("Habit deleted.")
}

func (s *Shell) history(c *ishell.Context) {
	if len(c.Args) != 1 {
		utils.PrintError("usage: history <id>")
		return
	}
	habits, err := s.api.Habits("")
	if err != nil {
		s.report(err)
		return
	}
	for _, h := range habits {
		if h.ID.Hex() == c.Args[0] {
			for _, line := range formatHistory(h.CompletionHistory) {
				c.Println(line)
			}
			return
		}
	}
	utils.PrintError("habit not found")
}

// formatHistory lists the recorded days oldest first.
func formatHistory(history models.History) []string {
	if len(history) == 0 {
		return []string{"No history recorded yet."}
	}
	lines := make([]string, 0, len(history))
	for _, date := range history.Dates() {
		mark := "missed"
		if history[date] {
			mark = "done"
		}
		lines = append(lines, date+"  "+mark)
	}
	return lines
}

func (s *Shell) backfill(c *ishell.Context) {
	if len(c.Args) != 3 {
		utils.PrintError("usage: backfill <id> <YYYY-MM-DD> <true|false>")
		return
	}
	completed, err := strconv.ParseBool(c.Args[2])
	if err != nil {
		utils.PrintError("completion must be true or false")
		return
	}
	if err := s.api.Backfill(c.Args[0], c.Args[1], completed); err != nil {
		s.report(err)
		return
	}
	c.Println("History updated.")
}

func (s *Shell) progress(c *ishell.Context) {
	snapshot, err := s.api.Progress()
	if err != nil {
		s.report(err)
		return
	}
	st := snapshot.Stats
	c.Printf("Level %d (%s)  %d/%d XP to next level\n", snapshot.Level, snapshot.TreeStage, snapshot.Progress.Progress.Current, snapshot.Progress.Progress.Max)
	c.Printf("Total XP %d  points %d\n", st.TotalXP, st.TotalPoints)
	c.Printf("Streak %d days (longest %d)\n", st.CurrentStreak, st.LongestStreak)
	c.Printf("Today %d/%d  health %d%%\n", st.HabitsCompletedToday, st.TotalHabitsToday, st.HealthBarPercentage)
	c.Printf("This week %d XP %v\n", st.WeeklyXP.Total(), st.WeeklyXP)
}

func (s *Shell) leaderboard(c *ishell.Context) {
	entries, err := s.api.Leaderboard()
	if err != nil {
		s.report(err)
		return
	}
	for _, e := range entries {
		marker := " "
		if e.IsCurrentUser {
			marker = "*"
		}
		c.Printf("%s %2d. %-20s level %-3d %6d XP  %s\n", marker, e.Rank, e.UserID, e.Level, e.TotalXP, e.TreeStage)
	}
}

func (s *Shell) friend(c *ishell.Context) {
	if len(c.Args) != 1 {
		utils.PrintError("usage: friend <user id>")
		return
	}
	if err := s.api.AddFriend(c.Args[0]); err != nil {
		s.report(err)
		return
	}
	c.Println("Friend linked.")
}

func (s *Shell) help(c *ishell.Context) {
	c.Println("Available commands:")
	commands := s.guestCommands
	if s.loggedIn {
		commands = s.userCommands
	}
	for _, command := range append(append([]Command(nil), commands...), s.commonCommands...) {
		c.Println("  |-- '" + command.Name + "' : " + command.Desc)
	}
	c.Println()
}

// Run prints the banner, registers the commands for the current login state and
// runs the shell until exit.
func (s *Shell) Run() {
	s.shell.Println()
	figure.NewFigure("HabitTree", "basic", true).Print()
	s.shell.Println("Welcome to HabitTree -- grow your tree one habit at a time. Type 'help' to see a list of commands.")

	s.addCommands(s.commonCommands)
	if s.loggedIn {
		s.addCommands(s.userCommands)
	} else {
		s.addCommands(s.guestCommands)
	}
	s.shell.Run()
}
