// Command donecast drives one podcast episode build from the terminal:
// template and audio selection, intent review, the minutes precheck, assembly
// dispatch, and publishing.
package main
