package utils

import (
	"fmt"
	"strings"
)

// PrintBanner prints message framed by a line of '+' characters above and below.
func PrintBanner(message string) {
	printFramed(message, "+")
}

// PrintError prints message as a framed error banner.
func PrintError(message string) {
	printFramed("ERROR: "+message, "=")
}

func printFramed(message, bannerChar string) {
	bannerLine := strings.Repeat(bannerChar, len(message)+4)

	fmt.Println(bannerLine)
	fmt.Printf("%s %s %s\n", bannerChar, message, bannerChar)
	fmt.Println(bannerLine)
	fmt.Println()
}
