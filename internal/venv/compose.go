// Package venv composes commands so they run inside a named Python virtual
// environment on the remote host, and manages environment setup.
//
// Composition is textual: every remote execution spawns a fresh shell with
// no memory of prior activation, so environment scoping has to be
// re-established inside the same command string each time.
package venv

import "path"

// DefaultEnv is the environment name probed for when none is specified.
const DefaultEnv = "ml_env"

// Compose returns the single command string that activates the environment
// rooted at envPath and then runs command. The stages are joined with a
// short-circuit conjunction, so command never runs after a failed
// activation. Existence of the environment is not verified here.
func Compose(envPath, command string) string {
	return ". " + path.Join(envPath, "bin", "activate") + " && " + command
}

// Python returns the interpreter path inside the environment.
func Python(envPath string) string {
	return path.Join(envPath, "bin", "python3")
}

// Heredoc wraps code so it is fed to interpreter on stdin within a single
// shell invocation.
func Heredoc(interpreter, code string) string {
	return interpreter + " << EOF\n" + code + "\nEOF"
}

// AppendAndRun composes the persistent-script form: append code to the
// remote file, then run the accumulated file with interpreter.
func AppendAndRun(interpreter, code, filename string) string {
	return "cat >> " + filename + " << EOF\n" + code + "\nEOF\n" + interpreter + " " + filename
}
