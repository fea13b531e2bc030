// Command borescope reviews folders of gearbox endoscopy images from the
// terminal.
//
// Evaluations are stored inside each JPEG (EXIF UserComment) and written
// back in the background, so commands that edit images return quickly and
// flush everything before exiting. Folder commands report progress from a
// snapshot of the whole folder.
package main
