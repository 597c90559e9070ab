package repo

// WelcomeNote is the content of the note created on first start.
const WelcomeNote = `# Welcome to GraphNode!
Notes are written in markdown. The first line becomes the title.

## Basics

- **Bold text** and *italic text*
- Links: [GraphNode](https://graphnode.ai/dev)
- Lists and nested lists

## Task lists

- [ ] Incomplete task
  - [x] Completed sub-task
- [x] Completed task

## Code

~~~python3
print("Hello, World!")
~~~

## Math

Inline math: $E = mc^2$

$$
40*5/38
$$

Everything you write is saved locally first and synced when you are online.
`
